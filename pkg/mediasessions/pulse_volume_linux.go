//go:build linux

package mediasessions

import (
	"fmt"
	"net"
	"strconv"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

const maxVolume = 0x10000

// paVolumeFallback adjusts a player's PulseAudio stream volume directly when
// the player's MPRIS Volume property is read-only. It matches sink inputs to
// players by process id.
type paVolumeFallback struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn
}

func newPAVolumeFallback(logger *zap.SugaredLogger) (*paVolumeFallback, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("mediasessions"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set client name: %w", err)
	}

	pa := &paVolumeFallback{
		logger: logger.Named("pulse"),
		client: client,
		conn:   conn,
	}

	pa.logger.Debug("Created PA volume fallback instance")

	return pa, nil
}

// SetProcessVolume sets the volume of every sink input owned by pid.
func (pa *paVolumeFallback) SetProcessVolume(pid int, level float64) error {
	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := pa.client.Request(&request, &reply); err != nil {
		pa.logger.Warnw("Failed to get sink input list", "error", err)
		return fmt.Errorf("get sink input list: %w", err)
	}

	matched := false

	for _, info := range reply {
		pidProp, ok := info.Properties["application.process.id"]
		if !ok {
			continue
		}

		inputPID, err := strconv.Atoi(pidProp.String())
		if err != nil || inputPID != pid {
			continue
		}

		volumes := createChannelVolumes(info.Channels, float32(level))
		setRequest := proto.SetSinkInputVolume{
			SinkInputIndex: info.SinkInputIndex,
			ChannelVolumes: volumes,
		}

		if err := pa.client.Request(&setRequest, nil); err != nil {
			pa.logger.Warnw("Failed to set sink input volume",
				"sinkInputIndex", info.SinkInputIndex,
				"error", err)

			return fmt.Errorf("adjust session volume: %w", err)
		}

		matched = true
	}

	if !matched {
		return fmt.Errorf("no sink input found for pid %d", pid)
	}

	return nil
}

func (pa *paVolumeFallback) Release() {
	if err := pa.conn.Close(); err != nil {
		pa.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return
	}

	pa.logger.Debug("Released PA volume fallback instance")
}

func createChannelVolumes(channels byte, volume float32) []uint32 {
	volumes := make([]uint32, channels)

	for i := range volumes {
		volumes[i] = uint32(volume * maxVolume)
	}

	return volumes
}
