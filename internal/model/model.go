package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&SiteInfo{},
	&Run{},
	&DeviceSample{},
	&Iteration{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// SiteInfo describes the test site the database belongs to
type SiteInfo struct {
	gorm.Model
	SiteName    string `json:"siteName" gorm:"size:127"`
	Description string `json:"description" gorm:"size:255"`
}

func (*SiteInfo) TableName() string {
	return "site_infos"
}

////////////////////////
// RUN MODELS
////////////////////////

// Run is one endurance mission
type Run struct {
	ID            uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	RunUUID       string         `json:"runId" gorm:"size:64;uniqueIndex"`
	Site          string         `json:"site" gorm:"size:127;index"`
	StartTime     time.Time      `json:"startTime" gorm:"index"`
	EndTime       *time.Time     `json:"endTime"`
	MaxIterations int            `json:"maxIterations"`
	Devices       datatypes.JSON `json:"devices"`
	Outcome       string         `json:"outcome" gorm:"size:32"`
	Reason        string         `json:"reason" gorm:"size:64"`
	Detail        string         `json:"detail" gorm:"size:1024"`
	Iterations    int            `json:"iterations"`
}

func (*Run) TableName() string {
	return "runs"
}

// DeviceSample is one telemetry sample of one device
type DeviceSample struct {
	ID             uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID          uint      `json:"runId" gorm:"index:idx_devicesample_run_id"`
	Run            Run       `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Time           time.Time `json:"time" gorm:"index:idx_devicesample_time"`
	Device         string    `json:"device" gorm:"size:127;index:idx_devicesample_device"`
	X              float64   `json:"x"`
	Y              float64   `json:"y"`
	Z              float64   `json:"z"`
	IsFlying       bool      `json:"isFlying"`
	IsTumbled      bool      `json:"isTumbled"`
	IsCharging     bool      `json:"isCharging"`
	BatteryVoltage float64   `json:"batteryVoltage"`
}

func (*DeviceSample) TableName() string {
	return "device_samples"
}

// Iteration is the report of one flown iteration
type Iteration struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	RunID      uint           `json:"runId" gorm:"index:idx_iteration_run_id"`
	Run        Run            `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Number     int            `json:"iteration"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    time.Time      `json:"endTime"`
	Successful bool           `json:"successful"`
	Devices    datatypes.JSON `json:"devices"`
}

func (*Iteration) TableName() string {
	return "iterations"
}
