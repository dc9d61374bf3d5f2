package common

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"feddfg"
	"feddfg/api"
	"feddfg/cmd/config"
	"feddfg/xeslog"
)

// LoadFrequencies reads an XES event log and reduces it to its
// directly-follows frequencies. Nothing else of the log is kept.
func LoadFrequencies(path string) (feddfg.FrequencyTable, error) {
	l, err := xeslog.Import(path)
	if err != nil {
		return nil, err
	}
	return l.Frequencies(), nil
}

// WriteDFG writes the graph as JSON to path, or to stdout for "-".
func WriteDFG(g *feddfg.DFG, path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteDOT writes the graph in graphviz dot format to path.
func WriteDOT(g *feddfg.DFG, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.WriteDOT(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func PrintStats(s api.NetStats, total, active time.Duration) {
	var stats string
	switch config.LogNetworkStats {
	case config.None:
		// do nothing
	case config.StringFormat:
		stats = fmt.Sprintf("%s, total time: %v, active time: %v", s, total, active)
	case config.JsonFormat:
		json, err := json.Marshal(struct {
			Sent     uint64        `json:"data_sent"`
			Recv     uint64        `json:"data_recv"`
			MsgsSent uint64        `json:"msgs_sent"`
			MsgsRecv uint64        `json:"msgs_recv"`
			Total    time.Duration `json:"time_total"`
			Active   time.Duration `json:"time_active"`
		}{
			Sent:     s.BytesSent,
			Recv:     s.BytesRecv,
			MsgsSent: s.MsgsSent,
			MsgsRecv: s.MsgsRecv,
			Total:    total,
			Active:   active,
		})
		if err != nil {
			log.Printf("Failed to marshal stats to json: %v", err)
		}
		stats = string(json)
	}
	if stats != "" {
		log.Printf("Stats: %s", stats)
	}
}
