// Command synstamp stamps TCP SYN segments onto a TAP interface or pcap
// file and dispatches received segments to configured ports.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
