package main

import "github.com/mentorloop/meetroom/cmd"

func main() {
	cmd.Execute()
}
