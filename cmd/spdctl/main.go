package main

import "github.com/kstaniek/go-ims-packets/internal/cli"

func main() { cli.Execute() }
