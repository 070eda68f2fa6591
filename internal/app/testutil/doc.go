// Package testutil provides testing utilities shared by the pipeline packages.
//
// MockProvider stands in for a transcription backend. Answers can be scripted
// per call or per chunk file, or fall through to testify expectations:
//
//	backend := testutil.NewMockProvider().
//	    Then(testutil.Repeat(testutil.Fail(testutil.BusyError()), 3)...).
//	    Then(testutil.Text("recovered"))
//
// FakeClock makes window and ETA arithmetic deterministic, and WriteChunks
// creates chunk files named the way the segmenter names them.
package testutil
