package main

import (
	"github.com/joho/godotenv"

	"conda-pypi/internal/cli"
)

func main() {
	_ = godotenv.Load()
	cli.Execute()
}
