package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newtron-network/newtval/pkg/device"
	"github.com/newtron-network/newtval/pkg/util"
)

// Mux state poll bounds.
const (
	muxStateTimeout  = 30 * time.Second
	muxStateInterval = time.Second
)

// muxRole records the mux interfaces a case forced on one ToR.
type muxRole struct {
	dut   DUT
	intfs []string
}

// forceMuxRole sets every mux interface of dut to state and waits until
// STATE_DB reports it. The returned role lists the interfaces touched,
// also on error, so teardown can hand them back to auto.
func forceMuxRole(ctx context.Context, env *Env, dut DUT, state string) (muxRole, error) {
	servers, err := dut.MuxCableServerIPs()
	if err != nil {
		return muxRole{dut: dut}, err
	}
	role := muxRole{dut: dut, intfs: sortedStrings(servers)}
	if len(role.intfs) == 0 {
		return role, nil
	}
	if err := dut.SetMuxState(state, role.intfs...); err != nil {
		return role, err
	}
	return role, waitMuxState(ctx, env, dut, state, role.intfs...)
}

// waitMuxState polls STATE_DB MUX_CABLE_TABLE until each interface
// reports state.
func waitMuxState(ctx context.Context, env *Env, dut DUT, state string, intfs ...string) error {
	log := util.WithDevice(dut.Hostname())
	for _, intf := range intfs {
		var observed string
		ok := waitUntil(ctx, env.Clock, muxStateTimeout, muxStateInterval, 0, func() bool {
			s, err := dut.MuxState(intf)
			if err != nil {
				log.Debugf("Mux state of %s: %v", intf, err)
				return false
			}
			observed = s
			return s == state
		})
		if ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return &AssertionError{
			What:     fmt.Sprintf("mux state of %s on %s", intf, dut.Hostname()),
			Expected: state,
			Observed: observed,
		}
	}
	return nil
}

// restoreMuxRoles hands forced interfaces back to auto.
func restoreMuxRoles(roles []muxRole) error {
	var errs []error
	for _, r := range roles {
		if len(r.intfs) == 0 {
			continue
		}
		if err := r.dut.SetMuxState(device.MuxAuto, r.intfs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
