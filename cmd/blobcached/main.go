package main

import "github.com/duchft/blobcached/internal/cli"

func main() {
	cli.Execute()
}
