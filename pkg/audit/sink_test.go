/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agenticaiops/incident-core/pkg/audit"
)

var fixedTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeWriter struct {
	received []audit.Event
	err      error
}

func (f *fakeWriter) RecordAuditEvents(_ context.Context, events []audit.Event) error {
	if f.err != nil {
		return f.err
	}
	f.received = events
	return nil
}

var _ = Describe("DataStorageSink", Label("audit"), func() {
	It("forwards the batch to the writer unchanged", func() {
		w := &fakeWriter{}
		sink := audit.NewDataStorageSink(w)

		events := []audit.Event{audit.StageEvent("inc-1", "alarm", "collect", 0, fixedTime)}
		Expect(sink.Write(context.Background(), events)).To(Succeed())
		Expect(w.received).To(Equal(events))
	})

	It("propagates the writer's error", func() {
		w := &fakeWriter{err: errors.New("boom")}
		sink := audit.NewDataStorageSink(w)

		err := sink.Write(context.Background(), []audit.Event{audit.ClosedEvent("inc-2", "manual", "failed", "x", fixedTime)})
		Expect(err).To(MatchError("boom"))
	})
})
