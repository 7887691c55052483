package main

import (
	"log"
	"os"
	sys "os"
)

func helper() {
	os.Exit(2)
}

func main() {
	defer helper()

	if len(os.Args) > 3 {
		log.Fatal("too many arguments") // want "avoid using log.Fatal in main.main"
	}
	if len(os.Args) > 2 {
		sys.Exit(1) // want "avoid using os.Exit in main.main"
	}

	func() {
		os.Exit(0) // want "avoid using os.Exit in main.main"
	}()
}
