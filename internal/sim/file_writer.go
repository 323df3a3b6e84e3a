package sim

import (
	"encoding/json"
	"os"

	"manet-sim/internal/telemetry"
)

// FileWriter writes samples, receipt notices and flow summaries to JSONL files.
type FileWriter struct {
	sampleFile *os.File
	eventFile  *os.File
	flowFile   *os.File
	runFile    *os.File
	sampleEnc  *json.Encoder
	eventEnc   *json.Encoder
	flowEnc    *json.Encoder
	runEnc     *json.Encoder
}

// NewFileWriter creates a FileWriter. eventPath, flowPath or runPath may be
// empty to skip those logs.
func NewFileWriter(samplePath, eventPath, flowPath, runPath string) (*FileWriter, error) {
	sf, err := os.Create(samplePath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{sampleFile: sf, sampleEnc: json.NewEncoder(sf)}
	open := func(path string) (*os.File, *json.Encoder, error) {
		if path == "" {
			return nil, nil, nil
		}
		f, err := os.Create(path)
		if err != nil {
			fw.Close()
			return nil, nil, err
		}
		return f, json.NewEncoder(f), nil
	}
	if fw.eventFile, fw.eventEnc, err = open(eventPath); err != nil {
		return nil, err
	}
	if fw.flowFile, fw.flowEnc, err = open(flowPath); err != nil {
		return nil, err
	}
	if fw.runFile, fw.runEnc, err = open(runPath); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write logs a single sample row.
func (f *FileWriter) Write(row telemetry.SampleRow) error {
	return f.sampleEnc.Encode(row)
}

// WriteBatch logs multiple sample rows.
func (f *FileWriter) WriteBatch(rows []telemetry.SampleRow) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteReceiveEvent logs a receipt notice, if enabled.
func (f *FileWriter) WriteReceiveEvent(row telemetry.ReceiveEventRow) error {
	if f.eventEnc == nil {
		return nil
	}
	return f.eventEnc.Encode(row)
}

// WriteFlowStats logs the flow summary, if enabled.
func (f *FileWriter) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	if f.flowEnc == nil {
		return nil
	}
	for _, r := range rows {
		if err := f.flowEnc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteRun logs run metadata, if enabled.
func (f *FileWriter) WriteRun(row telemetry.RunRow) error {
	if f.runEnc == nil {
		return nil
	}
	return f.runEnc.Encode(row)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	for _, file := range []*os.File{f.sampleFile, f.eventFile, f.flowFile, f.runFile} {
		if file == nil {
			continue
		}
		if e := file.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
