// Package status provides output formatting for the sfp status subcommand.
package status

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/vishvananda/netlink"

	"github.com/edge-core/as9817-util/pkg/config"
	"github.com/edge-core/as9817-util/pkg/sfp"
	"github.com/edge-core/as9817-util/pkg/types"
)

// LinkState returns the netlink operational state for a network
// interface, or "" when the interface cannot be resolved.
func LinkState(ifName string) string {
	if ifName == "" {
		return ""
	}
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return ""
	}
	return link.Attrs().OperState.String()
}

// Collect gathers the status of every front-panel port.
// Ports whose driver cannot be constructed are skipped.
func Collect(p *config.Platform) []types.PortStatus {
	statuses := make([]types.PortStatus, 0, p.PortEnd-p.PortStart+1)
	for port := p.PortStart; port <= p.PortEnd; port++ {
		s, err := sfp.New(p, port, p.PortNames[port])
		if err != nil {
			continue
		}
		st := s.Status()
		// Best-effort enrichment, errors are non-fatal
		st.LinkState = LinkState(st.Name)
		statuses = append(statuses, st)
	}
	return statuses
}

// PrintTable renders port statuses as a human-readable table.
func PrintTable(w io.Writer, statuses []types.PortStatus) {
	table := tablewriter.NewTable(w)
	table.Header("PORT", "NAME", "PRESENT", "TYPE", "STATUS", "LINK")
	for _, st := range statuses {
		name := st.Name
		if name == "" {
			name = "(none)"
		}
		present := "no"
		if st.Present {
			present = "yes"
		}
		moduleType := string(st.Type)
		if moduleType == "" {
			moduleType = "(none)"
		}
		linkState := st.LinkState
		if linkState == "" {
			linkState = "(unknown)"
		}
		table.Append(strconv.Itoa(st.Index), name, present, moduleType, st.Error, linkState)
	}
	table.Render()
}

// PortJSON is the JSON representation of one port status.
type PortJSON struct {
	Index     int    `json:"port"`
	Name      string `json:"name,omitempty"`
	Present   bool   `json:"present"`
	Type      string `json:"type,omitempty"`
	Error     string `json:"status"`
	LinkState string `json:"link_state,omitempty"`
}

// PrintJSON renders port statuses as JSON.
func PrintJSON(w io.Writer, statuses []types.PortStatus) error {
	out := make([]PortJSON, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, PortJSON{
			Index:     st.Index,
			Name:      st.Name,
			Present:   st.Present,
			Type:      string(st.Type),
			Error:     st.Error,
			LinkState: st.LinkState,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
