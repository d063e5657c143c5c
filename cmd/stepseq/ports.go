package main

import (
	"fmt"

	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/stepseq-go/internal/midiout"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		defer gomidi.CloseDriver()
		ports := midiout.ListPorts()
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no MIDI outputs found")
			return nil
		}
		for i, name := range ports {
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, name)
		}
		return nil
	},
}
