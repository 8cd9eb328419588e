package main

import (
	"os"

	"certmarket/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
