// Command fathom is the web application audit orchestrator's CLI front end.
package main

import "github.com/fathomsec/fathom/cmd/fathom/cmd"

func main() {
	cmd.Execute()
}
