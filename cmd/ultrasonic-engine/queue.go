package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ultrasonic/ultrasonic-sub000/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Print the persisted play queue and pinned files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := store.InitDB(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		state, err := store.NewSnapshotStore(db, nil).Load(cmd.Context())
		if err != nil {
			return err
		}
		pins, err := store.NewPinRegistry(db).List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if state == nil || len(state.Tracks) == 0 {
			fmt.Fprintln(w, "queue is empty")
		} else {
			fmt.Fprintf(w, "saved %s, position %s\n", humanize.Time(state.SavedAt),
				(time.Duration(state.PositionMs) * time.Millisecond).String())
			fmt.Fprintln(w, "\tINDEX\tID\tARTIST\tTITLE\tSIZE")
			for i, t := range state.Tracks {
				marker := ""
				if i == state.CurrentIndex {
					marker = ">"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", marker, i, t.ID, t.Artist, t.Title,
					humanize.Bytes(uint64(max(t.Size, 0))))
			}
		}
		if len(pins) > 0 {
			fmt.Fprintf(w, "\n%d pinned files\n", len(pins))
			for _, p := range pins {
				fmt.Fprintf(w, "\t%s\t%s\t%s\n", p.TrackID, p.Path, humanize.Time(p.RegisteredAt))
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
}
