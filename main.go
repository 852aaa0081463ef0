// The main package for the jobs-ingest executable.
package main

import "github.com/JakeFAU/jobs-ingest/cmd"

func main() {
	cmd.Execute()
}
