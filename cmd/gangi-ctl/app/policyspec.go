package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gangsched/gangsched"
	"github.com/gangsched/gangsched/pkg/gangsched/policy"
)

// parseCPUList parses a comma-separated CPU id list (e.g. "1,4,2,5"),
// the grammar of gsc's -c flag.
func parseCPUList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	cpus := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || id < 0 {
			return nil, gangsched.Invalidf("invalid CPU id %q in -c list", p)
		}
		cpus = append(cpus, id)
	}
	if len(cpus) == 0 {
		return nil, gangsched.Invalidf("-c requires at least one CPU id")
	}
	return cpus, nil
}

// parsePolicySpec parses a -t policy spec of the form:
//
//	no
//	tt,period_ms,active_ms,[sf]
//	et,period_ms,active_ms,[sf]
//	be,weight,[sf]
//
// mirroring gsc's get_gang_sched_policy, and then runs the parsed
// policy through policy.Validate against grain so a malformed spec is
// rejected with the same reason the reconfiguration engine would give
// it.
func parsePolicySpec(s string, grain policy.Time) (policy.Policy, error) {
	fields := strings.Split(s, ",")
	selector := fields[0]

	var p policy.Policy
	switch selector {
	case "no":
		if len(fields) != 1 {
			return p, gangsched.Invalidf("no-multiplexing policy takes no parameters")
		}
		p = policy.Exclusive(0)

	case "tt", "et":
		if len(fields) != 3 && len(fields) != 4 {
			return p, gangsched.Invalidf("%s policy takes period,active_time,[sf]", selector)
		}
		periodMs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || periodMs <= 0 {
			return p, gangsched.Invalidf("period must be a positive integer, got %q", fields[1])
		}
		activeMs, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || activeMs <= 0 {
			return p, gangsched.Invalidf("active_time must be a positive integer, got %q", fields[2])
		}
		if activeMs >= periodMs {
			return p, gangsched.Invalidf("active_time must be less than period")
		}
		sf, err := parseSpaceFilling(fields, 3)
		if err != nil {
			return p, err
		}
		period, active := policy.FromMillis(periodMs), policy.FromMillis(activeMs)
		if selector == "tt" {
			p = policy.TimeTriggered(0, period, active, sf)
		} else {
			p = policy.EventTriggered(0, period, active, sf)
		}

	case "be":
		if len(fields) != 2 && len(fields) != 3 {
			return p, gangsched.Invalidf("be policy takes weight,[sf]")
		}
		weight, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil || weight == 0 {
			return p, gangsched.Invalidf("weight must be in [1,65535], got %q", fields[1])
		}
		sf, err := parseSpaceFilling(fields, 2)
		if err != nil {
			return p, err
		}
		p = policy.BestEffort(0, uint16(weight), sf)

	default:
		return p, gangsched.Invalidf("invalid time-multiplexing policy %q", selector)
	}

	if err := policy.Validate(p, grain); err != nil {
		return p, gangsched.Invalidf("%s", err.Error())
	}
	return p, nil
}

func parseSpaceFilling(fields []string, idx int) (bool, error) {
	if idx >= len(fields) {
		return false, nil
	}
	if fields[idx] != "sf" {
		return false, gangsched.Invalidf("invalid space-filling flag %q, expected %q", fields[idx], "sf")
	}
	return true, nil
}

func formatParams(p policy.Policy) string {
	switch p.Kind {
	case policy.KindExclusive:
		return "-"
	case policy.KindTT, policy.KindET:
		return fmt.Sprintf("period=%dms active=%dms sf=%t", msOf(p.Period), msOf(p.ActiveTime), p.SpaceFilling)
	case policy.KindBE:
		return fmt.Sprintf("weight=%d sf=%t", p.Weight, p.SpaceFilling)
	default:
		return "?"
	}
}

func msOf(t policy.Time) int64 {
	if t.IsInfinite() {
		return 0
	}
	return int64(t.Duration().Milliseconds())
}
