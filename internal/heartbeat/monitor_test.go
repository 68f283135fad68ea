// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package heartbeat

import "testing"

func TestMonitorTripsAtThreshold(t *testing.T) {
	m := NewMonitor(3)
	if m.Exceeded() {
		t.Fatal("fresh monitor should not be exceeded")
	}
	if m.Tick() {
		t.Fatal("1st miss should not trip")
	}
	if m.Tick() {
		t.Fatal("2nd miss should not trip")
	}
	if !m.Tick() {
		t.Fatal("3rd miss should trip")
	}
	if !m.Exceeded() {
		t.Fatal("expected Exceeded after threshold reached")
	}
}

func TestMonitorResetClearsMisses(t *testing.T) {
	m := NewMonitor(3)
	m.Tick()
	m.Tick()
	m.Reset()
	if m.Exceeded() {
		t.Fatal("reset monitor should not be exceeded")
	}
	if m.Tick() {
		t.Fatal("single miss after reset should not trip a threshold of 3")
	}
}

func TestNewMonitorDefaultsNonPositiveThreshold(t *testing.T) {
	m := NewMonitor(0)
	if m.threshold != DefaultMissThreshold {
		t.Fatalf("got threshold %d want %d", m.threshold, DefaultMissThreshold)
	}
}
