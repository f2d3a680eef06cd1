package models

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func TestWIPColumnNames(t *testing.T) {
	cases := []struct {
		model  interface{}
		field  string
		column string
	}{
		{&Material{}, "OwnUnitWIP", "own_unit_wip"},
		{&Material{}, "JobberWIP", "jobber_wip"},
		{&MaterialHistory{}, "OwnUnitWIPDelta", "own_unit_wip_delta"},
		{&MaterialHistory{}, "JobberWIPDelta", "jobber_wip_delta"},
		{&MaterialHistory{}, "OwnUnitWIPAfter", "own_unit_wip_after"},
		{&MaterialHistory{}, "JobberWIPAfter", "jobber_wip_after"},
	}
	for _, c := range cases {
		s, err := schema.Parse(c.model, &sync.Map{}, schema.NamingStrategy{})
		if err != nil {
			t.Fatalf("schema.Parse(%T): %v", c.model, err)
		}
		f := s.LookUpField(c.field)
		if f == nil {
			t.Fatalf("%T has no field %s", c.model, c.field)
		}
		if f.DBName != c.column {
			t.Fatalf("%T.%s column = %q, want %q", c.model, c.field, f.DBName, c.column)
		}
	}
}

func TestSaveMaterialBalances(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	m, err := CreateMaterial(db, &NewMaterial{Name: "Tape", Unit: "roll", OnHandQty: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}
	m.OnHandQty = decimal.NewFromInt(70)
	m.OwnUnitWIP = decimal.NewFromInt(20)
	m.JobberWIP = decimal.NewFromInt(6)
	m.ConsumedQty = decimal.NewFromInt(3)
	m.WrittenOffQty = decimal.NewFromInt(1)
	if err := SaveMaterialBalances(db, m); err != nil {
		t.Fatalf("SaveMaterialBalances: %v", err)
	}
	got, err := GetMaterial(db, m.ID)
	if err != nil {
		t.Fatalf("GetMaterial: %v", err)
	}
	if !got.OwnUnitWIP.Equal(decimal.NewFromInt(20)) || !got.JobberWIP.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("wip = %s/%s, want 20/6", got.OwnUnitWIP, got.JobberWIP)
	}
	if !got.TrackedTotal().Equal(decimal.NewFromInt(100)) {
		t.Fatalf("tracked total = %s, want 100", got.TrackedTotal())
	}
}
