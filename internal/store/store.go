// Package store persists experiment runs, throughput samples and flow
// summaries in SQLite so several runs can be compared after the fact.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"manet-sim/internal/telemetry"
)

// Run is the stored form of telemetry.RunRow.
type Run struct {
	RunID          string `gorm:"primaryKey;size:64"`
	Protocol       string `gorm:"size:8;index"`
	Topology       string
	Addressing     string `gorm:"size:16"`
	Nodes          int
	Flows          int
	Sinks          int
	EndTimeS       float64
	EventsExecuted int
	Status         string `gorm:"size:16;index"`
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Sample is one stored throughput tick.
type Sample struct {
	ID                uint    `gorm:"primaryKey"`
	RunID             string  `gorm:"size:64;index:idx_sample_run_time"`
	SimulationSecond  float64 `gorm:"index:idx_sample_run_time"`
	ReceiveRate       float64
	PacketsReceived   int
	BytesReceived     int64
	NumberOfSinks     int
	RoutingProtocol   string `gorm:"size:8"`
	TransmissionPower float64
	Timestamp         time.Time
}

// Flow is one stored end of run flow summary.
type Flow struct {
	ID              uint   `gorm:"primaryKey"`
	RunID           string `gorm:"size:64;uniqueIndex:idx_flow_run"`
	FlowID          int    `gorm:"uniqueIndex:idx_flow_run"`
	Source          string
	Destination     string
	SourcePort      int
	DestinationPort int
	TxPackets       uint64
	RxPackets       uint64
	LostPackets     uint64
	TxBytes         uint64
	RxBytes         uint64
	MeanDelayS      float64
	MeanJitterS     float64
	ThroughputKbps  float64
	Timestamp       time.Time
}

// ErrRunNotFound is returned when a run ID has no stored record.
var ErrRunNotFound = errors.New("run not found")

// Store wraps a gorm connection to the results database.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open results db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Run{}, &Sample{}, &Flow{}); err != nil {
		return nil, fmt.Errorf("migrate results db: %w", err)
	}
	return &Store{db: db}, nil
}

// WriteRun inserts or updates the run record.
func (s *Store) WriteRun(row telemetry.RunRow) error {
	r := Run(row)
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&r).Error
}

// Write stores one sample.
func (s *Store) Write(row telemetry.SampleRow) error {
	return s.WriteBatch([]telemetry.SampleRow{row})
}

// WriteBatch stores samples in one transaction.
func (s *Store) WriteBatch(rows []telemetry.SampleRow) error {
	if len(rows) == 0 {
		return nil
	}
	recs := make([]Sample, len(rows))
	for i, r := range rows {
		recs[i] = Sample{
			RunID:             r.RunID,
			SimulationSecond:  r.SimulationSecond,
			ReceiveRate:       r.ReceiveRate,
			PacketsReceived:   r.PacketsReceived,
			BytesReceived:     r.BytesReceived,
			NumberOfSinks:     r.NumberOfSinks,
			RoutingProtocol:   r.RoutingProtocol,
			TransmissionPower: r.TransmissionPower,
			Timestamp:         r.Timestamp,
		}
	}
	return s.db.Create(&recs).Error
}

// WriteFlowStats stores the flow summary, replacing rows of the same flow.
func (s *Store) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	if len(rows) == 0 {
		return nil
	}
	recs := make([]Flow, len(rows))
	for i, r := range rows {
		recs[i] = Flow{
			RunID:           r.RunID,
			FlowID:          r.FlowID,
			Source:          r.Source,
			Destination:     r.Destination,
			SourcePort:      r.SourcePort,
			DestinationPort: r.DestinationPort,
			TxPackets:       r.TxPackets,
			RxPackets:       r.RxPackets,
			LostPackets:     r.LostPackets,
			TxBytes:         r.TxBytes,
			RxBytes:         r.RxBytes,
			MeanDelayS:      r.MeanDelayS,
			MeanJitterS:     r.MeanJitterS,
			ThroughputKbps:  r.ThroughputKbps,
			Timestamp:       r.Timestamp,
		}
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "flow_id"}},
		UpdateAll: true,
	}).Create(&recs).Error
}

// Runs lists stored runs, newest first, optionally filtered by protocol.
func (s *Store) Runs(protocol string, limit int) ([]telemetry.RunRow, error) {
	q := s.db.Model(&Run{}).Order("started_at DESC")
	if protocol != "" {
		q = q.Where("protocol = ?", protocol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []Run
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]telemetry.RunRow, len(recs))
	for i, r := range recs {
		out[i] = telemetry.RunRow(r)
	}
	return out, nil
}

// Run returns one stored run.
func (s *Store) Run(runID string) (telemetry.RunRow, error) {
	var r Run
	err := s.db.Where("run_id = ?", runID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return telemetry.RunRow{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return telemetry.RunRow{}, err
	}
	return telemetry.RunRow(r), nil
}

// Samples returns the samples of a run in simulated time order.
func (s *Store) Samples(runID string) ([]telemetry.SampleRow, error) {
	var recs []Sample
	if err := s.db.Where("run_id = ?", runID).Order("simulation_second").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]telemetry.SampleRow, len(recs))
	for i, r := range recs {
		out[i] = telemetry.SampleRow{
			RunID:             r.RunID,
			SimulationSecond:  r.SimulationSecond,
			ReceiveRate:       r.ReceiveRate,
			PacketsReceived:   r.PacketsReceived,
			BytesReceived:     r.BytesReceived,
			NumberOfSinks:     r.NumberOfSinks,
			RoutingProtocol:   r.RoutingProtocol,
			TransmissionPower: r.TransmissionPower,
			Timestamp:         r.Timestamp,
		}
	}
	return out, nil
}

// Flows returns the flow summary of a run ordered by flow ID.
func (s *Store) Flows(runID string) ([]telemetry.FlowStatRow, error) {
	var recs []Flow
	if err := s.db.Where("run_id = ?", runID).Order("flow_id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]telemetry.FlowStatRow, len(recs))
	for i, r := range recs {
		out[i] = telemetry.FlowStatRow{
			RunID:           r.RunID,
			FlowID:          r.FlowID,
			Source:          r.Source,
			Destination:     r.Destination,
			SourcePort:      r.SourcePort,
			DestinationPort: r.DestinationPort,
			TxPackets:       r.TxPackets,
			RxPackets:       r.RxPackets,
			LostPackets:     r.LostPackets,
			TxBytes:         r.TxBytes,
			RxBytes:         r.RxBytes,
			MeanDelayS:      r.MeanDelayS,
			MeanJitterS:     r.MeanJitterS,
			ThroughputKbps:  r.ThroughputKbps,
			Timestamp:       r.Timestamp,
		}
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
