package array

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

const progressBarWidth = 20

// Status renders the array the way /proc/mdstat does:
//
//	md0 : active raid1 8:16[0] 8:32[1] 8:48[2](F)
//	      960 blocks (983 kB) [2/1] [U_]
//	      [====>...............] recovery = 25.0% (240/960) finish=0.1min speed=1000K/sec
func (a *Array) Status() string {
	a.infoMu.RLock()
	state := a.state
	pers := a.pers
	capacity := a.capacity
	syncing := a.syncing
	rebuild := a.syncTarget != nil
	cursor, speed := a.cursor, a.speed
	var size uint64
	if a.sb != nil {
		size = uint64(a.sb.Size)
	}
	members := make([]string, 0, len(a.rdevs))
	for _, rdev := range a.rdevs {
		m := fmt.Sprintf("%s[%d]", rdev.Name, rdev.DescNr)
		if rdev.Faulty {
			m += "(F)"
		}
		members = append(members, m)
	}
	a.infoMu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s : ", a.name)
	switch {
	case pers == nil:
		b.WriteString("inactive")
	case state == types.ArrayReadOnly:
		fmt.Fprintf(&b, "active (read-only) %s", pers.Name())
	default:
		fmt.Fprintf(&b, "active %s", pers.Name())
	}
	for _, m := range members {
		b.WriteString(" ")
		b.WriteString(m)
	}
	if pers == nil {
		return b.String()
	}

	fmt.Fprintf(&b, "\n      %d blocks (%s) %s", capacity, humanize.Bytes(capacity*types.BlockSize), pers.Status(a))
	if syncing && cursor > 0 && size > 0 {
		b.WriteString("\n      ")
		b.WriteString(progressLine(rebuild, cursor, size, speed))
	}
	return b.String()
}

func progressLine(rebuild bool, cursor, size, speed uint64) string {
	if cursor > size {
		cursor = size
	}
	done := int(cursor * progressBarWidth / size)
	bar := strings.Repeat("=", done)
	if done < progressBarWidth {
		bar += ">" + strings.Repeat(".", progressBarWidth-done-1)
	}
	kind := "resync"
	if rebuild {
		kind = "recovery"
	}
	pct := float64(cursor) * 100 / float64(size)

	finish := "unknown"
	if speed > 0 {
		left := time.Duration((size-cursor)/speed) * time.Second
		finish = fmt.Sprintf("%.1fmin", left.Minutes())
	}
	return fmt.Sprintf("[%s] %s = %.1f%% (%s/%s) finish=%s speed=%sK/sec",
		bar, kind, pct, humanize.Comma(int64(cursor)), humanize.Comma(int64(size)), finish, humanize.Comma(int64(speed)))
}
