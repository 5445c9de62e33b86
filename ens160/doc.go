// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ens160 controls a ScioSense ENS160 digital multi-gas sensor over
// I²C. The sensor reports an air quality index (UBA scale, 1 to 5), an
// equivalent CO₂ concentration and a total volatile organic compounds
// concentration. The gas measurements are compensated with ambient
// temperature and relative humidity values supplied by the host, typically
// from a co-located temperature/humidity sensor.
//
// Datasheet: https://www.sciosense.com/wp-content/uploads/2023/12/ENS160-Datasheet.pdf
package ens160
