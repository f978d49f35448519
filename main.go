// Command missionfeed follows a mission thread's event feed in the terminal
// and hosts the event log it reads from.
package main

import (
	"os"

	"github.com/zjrosen/missionfeed/cmd"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version + " (" + commit + ", " + date + ")")
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
