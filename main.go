package main

import "forumscout/internal/app"

func main() {
	app.Main()
}
