package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/websocket"
)

const demoInterval = 10 * time.Second

// demoRobotDescription is a one-joint URDF offered as the robot_description
// parameter.
const demoRobotDescription = `<robot name="base">
  <link name="link">
    <inertial>
      <origin xyz="0.2 0.2 0.2" rpy="0 0 0"/>
      <mass value="1"/>
      <inertia ixx="0" ixy="0" ixz="0" iyy="0" iyz="0" izz="0"/>
    </inertial>
  </link>
  <joint name="joint" type="continuous">
    <origin xyz="0 0 0" rpy="0 0 0"/>
    <parent link="base"/>
    <child link="link"/>
    <axis xyz="0 0 1"/>
    <limit lower="-3.141592653589793" upper="3.141592653589793" effort="0" velocity="0"/>
    <dynamics damping="0" friction="0"/>
  </joint>
</robot>`

func demoChannel(topic string, latching bool) websocket.ChannelOptions {
	return websocket.ChannelOptions{
		Topic:          topic,
		Encoding:       "ros1",
		SchemaName:     "std_msgs/String",
		Schema:         "string data",
		SchemaEncoding: "ros1msg",
		Latching:       latching,
	}
}

// encodeROS1String serializes a std_msgs/String: a little-endian uint32
// length followed by the bytes.
func encodeROS1String(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(buf, uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// runDemo publishes one latched message on /data_latching and a counter on
// /data every interval until ctx is done.
func runDemo(ctx context.Context, hub *websocket.Broker, logger *zap.Logger, interval time.Duration) (err error) {
	logger = logger.Named("demo")
	hub.Parameters().Set("/robot_description", demoRobotDescription)

	data, err := hub.CreateChannel(demoChannel("/data", false))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, data.Close()) }()

	latching, err := hub.CreateChannel(demoChannel("/data_latching", true))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, latching.Close()) }()

	if err := latching.Send(uint64(time.Now().UnixNano()), encodeROS1String("latching!")); err != nil {
		logger.Debug("latched message not delivered to every subscriber", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for counter := 0; ; counter++ {
		msg := encodeROS1String(fmt.Sprintf("Hello %d!", counter))
		if err := data.Send(uint64(time.Now().UnixNano()), msg); err != nil {
			logger.Debug("message not delivered to every subscriber", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
