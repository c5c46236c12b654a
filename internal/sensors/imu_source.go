// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors reads PDR inputs from hardware attached to the host.
package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/indoor_pdr/internal/step"
)

// AccelReader yields accelerometer readings in m/s².
type AccelReader interface {
	ReadAccel() (x, y, z float64, err error)
}

// rawAccel is the subset of the MPU9250 driver used for acceleration.
type rawAccel interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
}

// CountsPerG returns the accelerometer sensitivity for a full-scale range
// setting: 0=±2g, 1=±4g, 2=±8g, 3=±16g.
func CountsPerG(accelRange byte) float64 {
	return float64(int(16384) >> accelRange)
}

// CountsToMS2 converts a raw accelerometer count to m/s².
func CountsToMS2(raw int16, accelRange byte) float64 {
	return float64(raw) / CountsPerG(accelRange) * step.StandardGravity
}

type imuSource struct {
	dev        rawAccel
	accelRange byte
}

// NewIMUSource initializes an MPU9250 over SPI and sets its accelerometer
// range.
func NewIMUSource(spiDev, csPin string, accelRange byte) (AccelReader, error) {
	if accelRange > 3 {
		return nil, fmt.Errorf("IMU: accel range %d out of range 0-3", accelRange)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: init: %w", err)
	}
	if err := dev.SetAccelRange(accelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}

	log.Printf("IMU: MPU9250 ready on %s (CS %s, ±%dg)", spiDev, csPin, 2<<accelRange)
	return &imuSource{dev: dev, accelRange: accelRange}, nil
}

// ReadAccel reads all three axes and scales them to m/s².
func (s *imuSource) ReadAccel() (x, y, z float64, err error) {
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("IMU acc X: %w", err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("IMU acc Y: %w", err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("IMU acc Z: %w", err)
	}
	return CountsToMS2(ax, s.accelRange), CountsToMS2(ay, s.accelRange), CountsToMS2(az, s.accelRange), nil
}
