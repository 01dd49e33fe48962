// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpa

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCronRegister(t *testing.T) {
	cron, err := NewCron()
	if err != nil {
		t.Fatal(err)
	}
	defer cron.Stop()

	var counter int32
	if err := cron.Register("count", func() { atomic.AddInt32(&counter, 1) }, time.Second); err != nil {
		t.Fatal(err)
	}

	if err := cron.Register("count", func() {}, time.Second); err == nil {
		t.Fatal("Registering a job twice was accepted")
	}
	if err := cron.Register("fast", func() {}, 100*time.Millisecond); err == nil {
		t.Fatal("Registering a sub-second job was accepted")
	}

	time.Sleep(2500 * time.Millisecond)

	if c := atomic.LoadInt32(&counter); c < 1 || c > 3 {
		t.Fatalf("Job was executed %d times", c)
	}

	cron.Unregister("count")
	if err := cron.Register("count", func() {}, time.Second); err != nil {
		t.Fatalf("Re-registering an unregistered job failed: %v", err)
	}
}
