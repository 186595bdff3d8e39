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

package audit

import "context"

// Sink persists a batch of Events. Implementations may be remote (the
// Knowledge Store's Data Storage API) or local (a file, a test recorder);
// BufferedStore treats any error as transient and simply drops the batch
// after logging it, per DD-AUDIT-002's graceful-degradation requirement.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// DataStorageWriter is the subset of DataStorageClient a Sink needs.
// Declared narrowly here (rather than importing the concrete client
// type) so pkg/audit never depends on pkg/datastorage/client's HTTP
// transport details.
type DataStorageWriter interface {
	RecordAuditEvents(ctx context.Context, events []Event) error
}

// datastorageSink adapts a DataStorageWriter to Sink.
type datastorageSink struct {
	writer DataStorageWriter
}

// NewDataStorageSink returns a Sink that persists events through the
// Knowledge Store's audit-events API.
func NewDataStorageSink(writer DataStorageWriter) Sink {
	return &datastorageSink{writer: writer}
}

func (s *datastorageSink) Write(ctx context.Context, events []Event) error {
	return s.writer.RecordAuditEvents(ctx, events)
}
