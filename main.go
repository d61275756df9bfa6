package main

import (
	"os"

	"shenbaosift/internal/app"
)

func main() {
	os.Exit(app.Execute())
}
