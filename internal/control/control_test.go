package control

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cohost-project/cohost/internal/cohosterr"
	"github.com/cohost-project/cohost/internal/region"
	"github.com/cohost-project/cohost/internal/ring"
)

func TestRunTickRequiresMapping(t *testing.T) {
	r := region.New()
	_, err := RunTick(r)
	require.ErrorIs(t, err, cohosterr.ErrInvalidHandle)
}

func TestRunTickEchoesPingAndAdvancesTick(t *testing.T) {
	r := region.New()
	_, err := r.MapShared(4)
	require.NoError(t, err)
	defer r.Unmap()

	hdr := ring.HeaderAt(r.KernelView())
	hdr.PingReq = 7

	res, err := RunTick(r)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.TickCount)
	require.EqualValues(t, 7, res.PingResp)

	res2, err := RunTick(r)
	require.NoError(t, err)
	require.EqualValues(t, 2, res2.TickCount)
}

func TestRunTickIsMonotonicUnderConcurrency(t *testing.T) {
	r := region.New()
	_, err := r.MapShared(4)
	require.NoError(t, err)
	defer r.Unmap()

	const n = 200
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := RunTick(r)
			return err
		})
	}
	require.NoError(t, g.Wait())

	hdr := ring.HeaderAt(r.KernelView())
	require.EqualValues(t, n, hdr.TickCount)
}
