package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcodeserver/internal/hardware"
	"transcodeserver/internal/loadmonitor"
	"transcodeserver/internal/progressbus"
	"transcodeserver/internal/registry"
)

func TestDispatcher_Tick_DispatchesOldestQueuedJobWhenAdmitted(t *testing.T) {
	encoder := filepath.Join(t.TempDir(), "fake-encoder")
	require.NoError(t, os.WriteFile(encoder, []byte("#!/bin/sh\necho progress=end\nexit 0\n"), 0o755))

	reg := registry.New(t.TempDir(), time.Minute, zerolog.Nop())
	bus := progressbus.New(zerolog.Nop())
	caps := capsWith(map[hardware.Family][]string{hardware.FamilySoftware: {"libx264"}})
	worker := NewWorker(WorkerConfig{
		Binary: Binary{Path: encoder}, Caps: caps, TierMaxHeight: 1080,
		StallTimeoutS: 5, SegmentDurationS: 4,
	}, reg, bus, NewCallbackClient(zerolog.Nop()), NewSubtitleFetcher(zerolog.Nop()), zerolog.Nop())

	mon := loadmonitor.New()
	d := NewDispatcher(reg, mon, worker, 0, zerolog.Nop())

	job, err := reg.Submit(registry.Request{Source: "in.mp4", Mode: registry.ModeBatch, Container: "mp4", HWAccel: "software"})
	require.NoError(t, err)

	d.tick(context.Background(), 2)

	assert.Eventually(t, func() bool {
		got, err := reg.Get(job.ID)
		return err == nil && got.Status != registry.StatusQueued
	}, 2*time.Second, 10*time.Millisecond, "job should leave queued once dispatched")
}

func TestDispatcher_Tick_SkipsWhenAtEffectiveCeiling(t *testing.T) {
	reg := registry.New(t.TempDir(), time.Minute, zerolog.Nop())
	bus := progressbus.New(zerolog.Nop())
	caps := capsWith(map[hardware.Family][]string{hardware.FamilySoftware: {"libx264"}})
	worker := NewWorker(WorkerConfig{Binary: Binary{Path: "true"}, Caps: caps, TierMaxHeight: 1080, StallTimeoutS: 5}, reg, bus, NewCallbackClient(zerolog.Nop()), NewSubtitleFetcher(zerolog.Nop()), zerolog.Nop())

	mon := loadmonitor.New()
	d := NewDispatcher(reg, mon, worker, 1, zerolog.Nop())

	job, err := reg.Submit(registry.Request{Source: "in.mp4", Mode: registry.ModeBatch, Container: "mp4", HWAccel: "software"})
	require.NoError(t, err)
	require.NoError(t, reg.Update(job.ID, func(j *registry.Job) { j.Status = registry.StatusProcessing }))

	second, err := reg.Submit(registry.Request{Source: "in2.mp4", Mode: registry.ModeBatch, Container: "mp4", HWAccel: "software"})
	require.NoError(t, err)

	d.tick(context.Background(), 4)

	time.Sleep(50 * time.Millisecond)
	got, err := reg.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusQueued, got.Status, "ceiling of 1 already met by the processing job, dispatcher must not start a second")
}
