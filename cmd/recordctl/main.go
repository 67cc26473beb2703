// recordctl is a command-line client for a Dataverse-style record store.
//
// Usage:
//
//	recordctl create <type> --data '{"name":"Contoso"}'
//	recordctl get <type> <id> [--select name,revenue]
//	recordctl list <type> [--fetch query.xml | --attr name --order name]
//	recordctl update <type> <id> --data '{"name":"Fabrikam"}'
//	recordctl delete <type> <id>
//	recordctl seed <type> <records.json>   Bulk create with bounded concurrency
//	recordctl demo                         Run the create/read/update/delete demo
//	recordctl run <scenario.yaml|dir>      Run record scenarios
//	recordctl profile list|show|add|use    Manage connection profiles
//	recordctl twin health|reset|seed|fault Talk to a twin's admin API
//
// Every global flag can also be set through the environment with the
// RECORDCTL_ prefix, e.g. RECORDCTL_URL or RECORDCTL_PROFILE.
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "recordctl: %v\n", err)
		os.Exit(1)
	}
}
