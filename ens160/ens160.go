// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ens160

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	// SensorAddress is the bus address of the device with the ADDR pin
	// pulled high, as wired on most breakout boards. With ADDR low the
	// device answers on 0x52 instead.
	SensorAddress uint16 = 0x53

	// partID is the value the PART_ID register reports for an ENS160.
	partID uint16 = 0x0160
)

// Register addresses.
const (
	regPartID   byte = 0x00
	regOpMode   byte = 0x10
	regCommand  byte = 0x12
	regTempIn   byte = 0x13
	regRHIn     byte = 0x15
	regStatus   byte = 0x20
	regAQI      byte = 0x21
	regTVOC     byte = 0x22
	regECO2     byte = 0x24
	regTempRead byte = 0x30
	regRHRead   byte = 0x32
	regGPRRead  byte = 0x48
)

// Values written to the command register. The command protocol shares the
// general purpose registers and is only valid in idle mode.
const (
	cmdNOP           byte = 0x00
	cmdClearGPR      byte = 0xCC
	cmdGetAppVersion byte = 0x0E
)

const (
	// startupTime is how long the device needs after power-on before the
	// first register access.
	startupTime = 20 * time.Millisecond
	// settleTime must elapse after an operating mode or command register
	// write before any dependent operation.
	settleTime = 10 * time.Millisecond
)

// OperatingMode is the power and measurement state of the device, held in
// the OPMODE register.
type OperatingMode byte

const (
	ModeSleep    OperatingMode = 0x00
	ModeIdle     OperatingMode = 0x01
	ModeStandard OperatingMode = 0x02
	ModeReset    OperatingMode = 0xF0
)

func (m OperatingMode) String() string {
	switch m {
	case ModeSleep:
		return "sleep"
	case ModeIdle:
		return "idle"
	case ModeStandard:
		return "standard"
	case ModeReset:
		return "reset"
	default:
		return fmt.Sprintf("OperatingMode(0x%02x)", byte(m))
	}
}

func (m OperatingMode) valid() bool {
	switch m {
	case ModeSleep, ModeIdle, ModeStandard, ModeReset:
		return true
	}
	return false
}

// Validity qualifies the measurement outputs, reported in bits 3:2 of the
// status register.
type Validity byte

const (
	// ValidityNormal means the outputs are valid.
	ValidityNormal Validity = iota
	// ValidityWarmup is reported during the first minutes after power-on.
	ValidityWarmup
	// ValidityStartup is reported during the first hours of operation of a
	// brand new device.
	ValidityStartup
	// ValidityInvalid means the outputs must not be trusted.
	ValidityInvalid
)

func (v Validity) String() string {
	switch v {
	case ValidityNormal:
		return "normal"
	case ValidityWarmup:
		return "warm-up"
	case ValidityStartup:
		return "initial start-up"
	case ValidityInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("Validity(%d)", byte(v))
	}
}

// Status is the decoded status register. It is constructed fresh on every
// Status() call and never mutated by the driver.
type Status struct {
	// Running is set while the device is running measurements in the
	// current operating mode.
	Running bool
	// Error is set when the device signals an internal error, for example
	// after an out-of-range mode write.
	Error bool
	// Validity qualifies the current measurement outputs.
	Validity Validity
}

func (s Status) String() string {
	return fmt.Sprintf("running=%t error=%t validity=%s", s.Running, s.Error, s.Validity)
}

// decodeStatus decodes a raw status byte. Anything not matching a defined
// validity value decodes to ValidityInvalid.
func decodeStatus(b byte) Status {
	s := Status{
		Running: b&(1<<7) != 0,
		Error:   b&(1<<6) != 0,
	}
	switch (b >> 2) & 0x03 {
	case 0:
		s.Validity = ValidityNormal
	case 1:
		s.Validity = ValidityWarmup
	case 2:
		s.Validity = ValidityStartup
	default:
		s.Validity = ValidityInvalid
	}
	return s
}

// AQI is the air quality index computed by the device on the UBA scale,
// from 1 (excellent) to 5 (unhealthy).
type AQI uint8

func (a AQI) String() string {
	switch a {
	case 1:
		return "1 (excellent)"
	case 2:
		return "2 (good)"
	case 3:
		return "3 (moderate)"
	case 4:
		return "4 (poor)"
	case 5:
		return "5 (unhealthy)"
	}
	return strconv.Itoa(int(a))
}

// PPM is an equivalent CO₂ concentration in parts per million.
type PPM uint16

func (p PPM) String() string {
	return strconv.Itoa(int(p)) + " ppm"
}

// PPB is a TVOC concentration in parts per billion.
type PPB uint16

func (p PPB) String() string {
	return strconv.Itoa(int(p)) + " ppb"
}

// Env is a single set of gas measurements from the device.
type Env struct {
	AQI  AQI
	ECO2 PPM
	TVOC PPB
}

func (e *Env) String() string {
	return fmt.Sprintf("AQI: %s eCO2: %s TVOC: %s", e.AQI, e.ECO2, e.TVOC)
}

// Version is the device firmware version as reported by the GetAppVersion
// command.
type Version struct {
	Major, Minor, Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Opts holds the ambient compensation values applied during initialization.
// The gas measurements are compensated with the conditions written to the
// device; update them with SetTemperatureCompensation and
// SetHumidityCompensation whenever better values are available.
type Opts struct {
	Temperature physic.Temperature
	Humidity    physic.RelativeHumidity
}

// DefaultOpts is a reasonable indoor ambient default. Readings taken before
// real compensation values have been applied should be treated accordingly.
var DefaultOpts = Opts{
	Temperature: physic.ZeroCelsius + 25_500*physic.MilliKelvin,
	Humidity:    51 * physic.PercentRH,
}

// Dev is a handle to an initialized ENS160 device.
//
// All operations on a Dev are serialized internally. The device protocol
// has multi-step exchanges with no tolerance for interleaving, so the bus
// address must not be shared with any other user for the lifetime of the
// Dev.
type Dev struct {
	d      *i2c.Dev
	opts   Opts
	mu     sync.Mutex
	chHalt chan struct{}
}

// NewI2C returns a driver for an ENS160 on the supplied bus and runs the
// power-on initialization sequence, leaving the device measuring
// continuously. Use SensorAddress for addr unless the ADDR pin is wired
// low. opts may be nil to use DefaultOpts.
//
// If initialization fails the device is left in an unspecified state. There
// is no partial recovery; call NewI2C again to retry the whole sequence.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{d: &i2c.Dev{Bus: b, Addr: addr}, opts: *opts}
	if err := d.start(); err != nil {
		return nil, err
	}
	return d, nil
}

// start brings the device from an unknown state into continuous
// measurement. Each step requires the previous one to have succeeded;
// individual steps cannot be retried in isolation.
func (d *Dev) start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Power rail stabilization before the first register access.
	time.Sleep(startupTime)
	if err := d.setMode(ModeReset); err != nil {
		return err
	}
	if err := d.checkID(); err != nil {
		var mismatch *IdentityMismatchError
		if errors.As(err, &mismatch) {
			return &DeviceNotDetectedError{cause: mismatch}
		}
		return err
	}
	// The clear command protocol is only valid from idle, and flushes any
	// general purpose register state left over from a prior session.
	if err := d.setMode(ModeIdle); err != nil {
		return err
	}
	if err := d.clearCommand(); err != nil {
		return err
	}
	if err := d.setMode(ModeStandard); err != nil {
		return err
	}
	if err := d.setTemperatureCompensation(d.opts.Temperature); err != nil {
		return err
	}
	return d.setHumidityCompensation(d.opts.Humidity)
}

// CheckID reads the part ID register and verifies the device identity. It
// has no side effect beyond the read.
func (d *Dev) CheckID() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkID()
}

func (d *Dev) checkID() error {
	buf := make([]byte, 2)
	if err := d.readReg(regPartID, buf); err != nil {
		return err
	}
	if got := uint16(buf[0]) | uint16(buf[1])<<8; got != partID {
		return &IdentityMismatchError{Got: got}
	}
	return nil
}

// SetMode writes the operating mode register and waits the mandatory 10ms
// settle time. A value outside the defined modes is rejected with
// InvalidModeError before any bus access.
func (d *Dev) SetMode(m OperatingMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMode(m)
}

func (d *Dev) setMode(m OperatingMode) error {
	if !m.valid() {
		return &InvalidModeError{Mode: byte(m)}
	}
	return d.writeMode(m)
}

// writeMode writes the mode register without validation. Used directly to
// restore a previously read back value during command sequences.
func (d *Dev) writeMode(m OperatingMode) error {
	if err := d.writeReg(regOpMode, byte(m)); err != nil {
		return err
	}
	time.Sleep(settleTime)
	return nil
}

// Mode reads back the operating mode register. The raw register value is
// returned without validation; a faulted device can report a value outside
// the defined modes and callers get to interpret it.
func (d *Dev) Mode() (OperatingMode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode()
}

func (d *Dev) mode() (OperatingMode, error) {
	buf := make([]byte, 1)
	if err := d.readReg(regOpMode, buf); err != nil {
		return 0, err
	}
	return OperatingMode(buf[0]), nil
}

// clearCommand flushes the general purpose registers. The leading NOP write
// is required: clearing without it is unreliable per the vendor protocol.
// Only valid in idle mode.
func (d *Dev) clearCommand() error {
	if err := d.writeReg(regCommand, cmdNOP); err != nil {
		return err
	}
	if err := d.writeReg(regCommand, cmdClearGPR); err != nil {
		return err
	}
	time.Sleep(settleTime)
	return nil
}

// FirmwareVersion reads the firmware version through the general purpose
// registers. The device is switched to idle for the command exchange and
// the previous operating mode is restored before returning, on every exit
// path including failures.
func (d *Dev) FirmwareVersion() (_ Version, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, err := d.mode()
	if err != nil {
		return Version{}, err
	}
	defer func() {
		// Restore whatever was read back, valid or not, so a failed
		// exchange does not leave the device stuck in idle.
		if rerr := d.writeMode(prev); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if err := d.setMode(ModeIdle); err != nil {
		return Version{}, err
	}
	if err := d.clearCommand(); err != nil {
		return Version{}, err
	}
	time.Sleep(settleTime)
	if err := d.writeReg(regCommand, cmdGetAppVersion); err != nil {
		return Version{}, err
	}
	buf := make([]byte, 8)
	if err := d.readReg(regGPRRead, buf); err != nil {
		return Version{}, err
	}
	return Version{Major: buf[4], Minor: buf[5], Patch: buf[6]}, nil
}

// SetTemperatureCompensation writes the ambient temperature the device uses
// to compensate its gas measurements.
func (d *Dev) SetTemperatureCompensation(t physic.Temperature) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setTemperatureCompensation(t)
}

func (d *Dev) setTemperatureCompensation(t physic.Temperature) error {
	raw := temperatureToComp(t)
	return d.writeReg(regTempIn, byte(raw), byte(raw>>8))
}

// SetHumidityCompensation writes the ambient relative humidity the device
// uses to compensate its gas measurements.
func (d *Dev) SetHumidityCompensation(h physic.RelativeHumidity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setHumidityCompensation(h)
}

func (d *Dev) setHumidityCompensation(h physic.RelativeHumidity) error {
	raw := humidityToComp(h)
	return d.writeReg(regRHIn, byte(raw), byte(raw>>8))
}

// TemperatureCompensation reads back the temperature compensation currently
// in effect, rounded to 0.1°C.
func (d *Dev) TemperatureCompensation() (physic.Temperature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, 2)
	if err := d.readReg(regTempRead, buf); err != nil {
		return 0, err
	}
	// The read-back registers are big-endian while the input registers are
	// little-endian. Device quirk, kept as observed.
	return compToTemperature(uint16(buf[0])<<8 | uint16(buf[1])), nil
}

// HumidityCompensation reads back the humidity compensation currently in
// effect, rounded to 0.1%RH.
func (d *Dev) HumidityCompensation() (physic.RelativeHumidity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, 2)
	if err := d.readReg(regRHRead, buf); err != nil {
		return 0, err
	}
	return compToHumidity(uint16(buf[0])<<8 | uint16(buf[1])), nil
}

// AQI reads the current air quality index. The register value is passed
// through as reported; the driver does not range check measurements.
func (d *Dev) AQI() (AQI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aqi()
}

func (d *Dev) aqi() (AQI, error) {
	buf := make([]byte, 1)
	if err := d.readReg(regAQI, buf); err != nil {
		return 0, err
	}
	return AQI(buf[0]), nil
}

// ECO2 reads the current equivalent CO₂ concentration.
func (d *Dev) ECO2() (PPM, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eco2()
}

func (d *Dev) eco2() (PPM, error) {
	buf := make([]byte, 2)
	if err := d.readReg(regECO2, buf); err != nil {
		return 0, err
	}
	return PPM(uint16(buf[0]) | uint16(buf[1])<<8), nil
}

// TVOC reads the current total volatile organic compounds concentration.
func (d *Dev) TVOC() (PPB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tvoc()
}

func (d *Dev) tvoc() (PPB, error) {
	buf := make([]byte, 2)
	if err := d.readReg(regTVOC, buf); err != nil {
		return 0, err
	}
	return PPB(uint16(buf[0]) | uint16(buf[1])<<8), nil
}

// Status reads and decodes the status register.
func (d *Dev) Status() (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, 1)
	if err := d.readReg(regStatus, buf); err != nil {
		return Status{}, err
	}
	return decodeStatus(buf[0]), nil
}

// Sense reads all three gas measurements.
func (d *Dev) Sense(e *Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, err := d.aqi()
	if err != nil {
		return err
	}
	co2, err := d.eco2()
	if err != nil {
		return err
	}
	tvoc, err := d.tvoc()
	if err != nil {
		return err
	}
	e.AQI, e.ECO2, e.TVOC = a, co2, tvoc
	return nil
}

// SenseContinuous reads the device at the given interval and delivers
// readings on the returned channel until Halt() is called. The device
// refreshes its outputs once per second in standard mode; polling faster
// than that returns repeated values.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chHalt != nil {
		return nil, errors.New("ens160: SenseContinuous() already running")
	}
	d.chHalt = make(chan struct{})
	channel := make(chan Env, 16)

	go func(halt <-chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(channel)
		for {
			select {
			case <-halt:
				return
			case <-ticker.C:
				e := Env{}
				if err := d.Sense(&e); err == nil && len(channel) < cap(channel) {
					channel <- e
				}
			}
		}
	}(d.chHalt)
	return channel, nil
}

// Halt stops a running SenseContinuous and puts the device to sleep.
// Implements conn.Resource. The device needs a full NewI2C initialization
// to be used again.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chHalt != nil {
		close(d.chHalt)
		d.chHalt = nil
	}
	return d.setMode(ModeSleep)
}

// Precision returns the resolution of the measurements: one index step,
// 1 ppm and 1 ppb.
func (d *Dev) Precision(e *Env) {
	e.AQI = 1
	e.ECO2 = 1
	e.TVOC = 1
}

func (d *Dev) String() string {
	return fmt.Sprintf("ens160: %s", d.d.String())
}

func (d *Dev) readReg(reg byte, buf []byte) error {
	if err := d.d.Tx([]byte{reg}, buf); err != nil {
		return fmt.Errorf("ens160: reading register 0x%02x: %w", reg, err)
	}
	return nil
}

func (d *Dev) writeReg(reg byte, data ...byte) error {
	if err := d.d.Tx(append([]byte{reg}, data...), nil); err != nil {
		return fmt.Errorf("ens160: writing register 0x%02x: %w", reg, err)
	}
	return nil
}

// temperatureToComp converts a temperature to the fixed point encoding of
// the temperature input register: Kelvin times 64, little-endian on the
// wire. Inputs are clamped to what the register can hold.
func temperatureToComp(t physic.Temperature) uint16 {
	k := math.Round((t.Celsius() + 273.15) * 64)
	if k < 0 {
		k = 0
	} else if k > math.MaxUint16 {
		k = math.MaxUint16
	}
	return uint16(k)
}

// compToTemperature decodes a temperature read-back value, rounding to
// 0.1°C. The encoding is lossy, so a round trip is only exact to within one
// LSB.
func compToTemperature(raw uint16) physic.Temperature {
	c := float64(raw)/64 - 273.15
	c = math.Round(c*10) / 10
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Celsius))
}

// humidityToComp converts a relative humidity to the fixed point encoding
// of the humidity input register: percent times 512, little-endian on the
// wire. Inputs are clamped to 0..100%.
func humidityToComp(h physic.RelativeHumidity) uint16 {
	pct := float64(h) / float64(physic.PercentRH)
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return uint16(math.Round(pct * 512))
}

// compToHumidity decodes a humidity read-back value, rounding to 0.1%RH.
func compToHumidity(raw uint16) physic.RelativeHumidity {
	pct := math.Round(float64(raw)/512*10) / 10
	return physic.RelativeHumidity(pct * float64(physic.PercentRH))
}

var _ conn.Resource = &Dev{}
