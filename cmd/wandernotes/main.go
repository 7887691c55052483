// WanderNotes is a personal travel journal REST API.
package main

import (
	"github.com/patric-chuzhbe/wandernotes/internal/app"
)

func main() {
	theApp, err := app.New()
	if err != nil {
		panic(err)
	}
	defer theApp.Close()

	if err := theApp.Run(); err != nil {
		panic(err)
	}
}
