package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-mdraid/pkg/app"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ValidateFormat rejects unknown output formats
func ValidateFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return nil
	default:
		return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("unsupported output format %q, use table, json or yaml", format), nil)
	}
}

// FormatOutput writes v to w in the requested format
func FormatOutput(w io.Writer, v interface{}, format string) error {
	switch format {
	case FormatJSON:
		return formatJSON(w, v)
	case FormatYAML:
		return formatYAML(w, v)
	case FormatTable, "":
		return formatTable(w, v)
	default:
		return ValidateFormat(format)
	}
}

func formatJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func formatTable(w io.Writer, v interface{}) error {
	switch resp := v.(type) {
	case *ExamineResponse:
		return examineTable(w, resp)
	case *ArraysResponse:
		return arraysTable(w, resp)
	default:
		return formatYAML(w, v)
	}
}

func examineTable(w io.Writer, resp *ExamineResponse) error {
	for i, sb := range resp.Devices {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n", sb.Device)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		checksum := sb.Checksum + " - correct"
		if !sb.ChecksumValid {
			checksum = sb.Checksum + " - MISMATCH"
		}
		rows := [][2]string{
			{"Version", sb.Version},
			{"UUID", sb.UUID},
			{"Creation Time", sb.Created.Format("Mon Jan  2 15:04:05 2006")},
			{"Raid Level", sb.Level},
			{"Array Size", fmt.Sprintf("%d blocks (%s)", sb.SizeBlocks, sb.Size)},
			{"Raid Devices", fmt.Sprint(sb.RaidDisks)},
			{"Total Devices", fmt.Sprint(sb.TotalDisks)},
			{"Preferred Minor", fmt.Sprint(sb.MdMinor)},
			{"Update Time", sb.Updated.Format("Mon Jan  2 15:04:05 2006")},
			{"State", sb.State},
			{"Active Devices", fmt.Sprint(sb.ActiveDisks)},
			{"Working Devices", fmt.Sprint(sb.WorkingDisks)},
			{"Failed Devices", fmt.Sprint(sb.FailedDisks)},
			{"Spare Devices", fmt.Sprint(sb.SpareDisks)},
			{"Checksum", checksum},
			{"Events", fmt.Sprint(sb.Events)},
		}
		if sb.ChunkSize > 0 {
			rows = append(rows, [2]string{"Chunk Size", humanize.IBytes(uint64(sb.ChunkSize))})
		}
		for _, row := range rows {
			fmt.Fprintf(tw, "  %s\t: %s\n", row[0], row[1])
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  \tNUMBER\tDEVICE\tRAIDDEVICE\tSTATE")
		fmt.Fprintf(tw, "  this\t%d\t%s\t%d\t%s\n", sb.ThisDisk.Number, sb.ThisDisk.Device, sb.ThisDisk.RaidDisk, sb.ThisDisk.State)
		for _, d := range sb.Disks {
			fmt.Fprintf(tw, "  \t%d\t%s\t%d\t%s\n", d.Number, d.Device, d.RaidDisk, d.State)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	for _, e := range resp.Errors {
		fmt.Fprintf(w, "%s: %s\n", e.Device, e.Error)
	}
	return nil
}

func arraysTable(w io.Writer, resp *ArraysResponse) error {
	if len(resp.Arrays) == 0 {
		fmt.Fprintln(w, "no arrays")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLEVEL\tSTATE\tSIZE\tDEVICES\tEVENTS\tUUID")
	for _, a := range resp.Arrays {
		state := a.State
		if a.Resync != nil {
			state = fmt.Sprintf("%s, resync %d%%", state, a.Resync.Percent)
		} else if a.NeedsResync {
			state += ", unclean"
		}
		devices := fmt.Sprintf("%d/%d", a.ActiveDisks, a.RaidDisks)
		if a.SpareDisks > 0 {
			devices += fmt.Sprintf(" +%d spare", a.SpareDisks)
		}
		if a.FailedDisks > 0 {
			devices += fmt.Sprintf(" %d failed", a.FailedDisks)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", a.Name, a.Level, state, a.Size, devices, a.Events, a.UUID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, a := range resp.Arrays {
		if len(a.Members) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s members:\n", a.Name)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, m := range a.Members {
			fmt.Fprintf(tw, "  %s\t%s\tslot %d\t%s\n", m.Device, m.DeviceID, m.Slot, m.Role)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// FormatProgress renders one progress line for a running resync
func FormatProgress(update app.ProgressUpdate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %3d%% (%d/%d blocks)", update.Message, update.Percent(), update.Completed, update.Total)
	if rate := update.Rate(); rate > 0 {
		fmt.Fprintf(&b, " %s/s", humanize.IBytes(uint64(rate*1024)))
	}
	if eta := update.ETA(); eta > 0 {
		fmt.Fprintf(&b, " eta %s", eta)
	}
	return b.String()
}
