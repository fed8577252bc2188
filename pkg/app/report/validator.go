package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-mdraid/internal/types"
	"github.com/deploymenttheory/go-mdraid/pkg/app"
	"github.com/deploymenttheory/go-mdraid/pkg/services"
)

// DefaultStripeChunk is the chunk size of striped arrays created without one
const DefaultStripeChunk = "64KiB"

// ExamineRequest lists devices whose superblocks are printed
type ExamineRequest struct {
	Devices []string
}

// CreateRequest describes an array to create from the command line
type CreateRequest struct {
	Array         string
	Level         string
	Chunk         string
	RaidDevices   int
	SpareDevices  int
	Devices       []string
	AssumeClean   bool
	NotPersistent bool
	Resync        bool
}

// AssembleRequest lists devices to assemble into arrays
type AssembleRequest struct {
	Devices []string
	Resync  bool
}

// ManageRequest changes the members of a running array
type ManageRequest struct {
	Array   string
	Devices []string
	Add     []string
	Remove  []string
	Fail    []string
	Resync  bool
}

// Validate validates an examine request
func (r *ExamineRequest) Validate() error {
	if len(r.Devices) == 0 {
		return app.NewError(app.ErrCodeInvalidInput, "at least one device is required", nil)
	}
	return nil
}

// Validate validates a create request
func (r *CreateRequest) Validate() error {
	_, err := r.ServiceRequest()
	return err
}

// ServiceRequest validates the request and converts it for MDService.Create
func (r *CreateRequest) ServiceRequest() (services.CreateRequest, error) {
	target, err := app.ParseArrayTarget(r.Array)
	if err != nil {
		return services.CreateRequest{}, err
	}
	level, err := ParseLevel(r.Level)
	if err != nil {
		return services.CreateRequest{}, err
	}

	chunkText := r.Chunk
	if chunkText == "" && level == types.LevelRaid0 {
		chunkText = DefaultStripeChunk
	}
	chunk, err := ParseChunk(chunkText)
	if err != nil {
		return services.CreateRequest{}, err
	}
	if len(r.Devices) == 0 {
		return services.CreateRequest{}, app.NewError(app.ErrCodeInvalidInput, "at least one device is required", nil)
	}
	if len(r.Devices) > types.MDSbDisks {
		return services.CreateRequest{}, app.NewError(app.ErrCodeInvalidInput,
			fmt.Sprintf("at most %d devices are supported, got %d", types.MDSbDisks, len(r.Devices)), nil)
	}
	if r.SpareDevices < 0 || r.RaidDevices < 0 {
		return services.CreateRequest{}, app.NewError(app.ErrCodeInvalidInput, "device counts cannot be negative", nil)
	}

	raid := r.RaidDevices
	if raid == 0 {
		raid = len(r.Devices) - r.SpareDevices
	}
	if raid < 1 || raid+r.SpareDevices != len(r.Devices) {
		return services.CreateRequest{}, app.NewError(app.ErrCodeInvalidInput,
			fmt.Sprintf("%d raid and %d spare devices do not match %d device paths", raid, r.SpareDevices, len(r.Devices)), nil)
	}
	if r.SpareDevices > 0 && level != types.LevelRaid1 {
		return services.CreateRequest{}, app.NewError(app.ErrCodeInvalidInput,
			fmt.Sprintf("%s arrays cannot have spares", types.LevelName(level)), nil)
	}
	if err := checkDuplicates(r.Devices); err != nil {
		return services.CreateRequest{}, err
	}

	return services.CreateRequest{
		Minor:         target.Minor,
		Level:         level,
		ChunkSize:     chunk,
		RaidDevices:   raid,
		Devices:       r.Devices,
		NotPersistent: r.NotPersistent,
		AssumeClean:   r.AssumeClean,
	}, nil
}

// Validate validates an assemble request
func (r *AssembleRequest) Validate() error {
	if len(r.Devices) == 0 {
		return app.NewError(app.ErrCodeInvalidInput, "at least one device is required", nil)
	}
	return checkDuplicates(r.Devices)
}

// Validate validates a manage request
func (r *ManageRequest) Validate() error {
	if _, err := app.ParseArrayTarget(r.Array); err != nil {
		return err
	}
	if len(r.Devices) == 0 {
		return app.NewError(app.ErrCodeInvalidInput, "the array member devices are required", nil)
	}
	if len(r.Add)+len(r.Remove)+len(r.Fail) == 0 {
		return app.NewError(app.ErrCodeInvalidInput, "one of --add, --remove or --fail is required", nil)
	}
	for _, path := range r.Add {
		for _, member := range r.Devices {
			if path == member {
				return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("%s is already listed as a member", path), nil)
			}
		}
	}
	return checkDuplicates(r.Devices)
}

// ParseLevel accepts a personality name or its numeric level
func ParseLevel(s string) (int32, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "-1":
		return types.LevelLinear, nil
	case "raid0", "0", "stripe":
		return types.LevelRaid0, nil
	case "raid1", "1", "mirror":
		return types.LevelRaid1, nil
	default:
		return 0, app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("unsupported raid level %q, use linear, raid0 or raid1", s), nil)
	}
}

// ParseChunk parses a chunk size. Bare numbers are KiB; suffixed values use
// go-humanize units, so "64KiB" and "1MiB" are accepted. The result must be
// a power of two of at least 4 KiB, or zero when s is empty.
func ParseChunk(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var bytes uint64
	if kib, err := strconv.ParseUint(s, 10, 32); err == nil {
		bytes = kib * 1024
	} else {
		parsed, err := humanize.ParseBytes(s)
		if err != nil {
			return 0, app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("invalid chunk size %q", s), err)
		}
		bytes = parsed
	}

	if bytes < 4096 || bytes&(bytes-1) != 0 || bytes > 1<<31 {
		return 0, app.NewError(app.ErrCodeInvalidInput,
			fmt.Sprintf("chunk size %q must be a power of two of at least 4KiB", s), nil)
	}
	return uint32(bytes), nil
}

func checkDuplicates(paths []string) error {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("device %s listed twice", p), nil)
		}
		seen[p] = true
	}
	return nil
}
