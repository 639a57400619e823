package detection

import (
	"slices"
	"testing"
	"time"
)

func TestDefaultCatalog_Tiers(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		classID    int
		tier       Tier
		visibility time.Duration
		grace      time.Duration
	}{
		{ClassLaptop, TierMaterial, time.Second, 2 * time.Second},
		{ClassBook, TierMaterial, time.Second, 2 * time.Second},
		{ClassTV, TierPeripheral, 1500 * time.Millisecond, 3 * time.Second},
		{ClassKeyboard, TierPeripheral, 1500 * time.Millisecond, 3 * time.Second},
		{ClassRemote, TierPeripheral, 1500 * time.Millisecond, 3 * time.Second},
	}

	for _, tc := range tests {
		t.Run(ClassName(tc.classID), func(t *testing.T) {
			item, ok := c.Lookup(tc.classID)
			if !ok {
				t.Fatalf("class %d missing from catalog", tc.classID)
			}
			if item.Tier != tc.tier {
				t.Errorf("Tier: got %d, want %d", item.Tier, tc.tier)
			}
			if item.Visibility != tc.visibility {
				t.Errorf("Visibility: got %v, want %v", item.Visibility, tc.visibility)
			}
			if item.Grace != tc.grace {
				t.Errorf("Grace: got %v, want %v", item.Grace, tc.grace)
			}
		})
	}
}

func TestCatalog_Split(t *testing.T) {
	c := DefaultCatalog()
	objects := []Object{
		{ClassID: ClassCellPhone},
		{ClassID: ClassBook},
		{ClassID: ClassPerson},
		{ClassID: ClassKeyboard},
	}

	phones, items := c.Split(objects)
	if len(phones) != 1 || phones[0].ClassID != ClassCellPhone {
		t.Errorf("phones: got %+v", phones)
	}
	if len(items) != 2 {
		t.Errorf("items: got %d, want 2", len(items))
	}
}

func TestCatalog_ClassIDs(t *testing.T) {
	ids := DefaultCatalog().ClassIDs()
	if !slices.IsSorted(ids) {
		t.Errorf("ClassIDs not sorted: %v", ids)
	}
	if !slices.Contains(ids, ClassCellPhone) {
		t.Error("ClassIDs should include the phone class")
	}
	if len(ids) != 6 {
		t.Errorf("ClassIDs: got %d ids, want 6", len(ids))
	}
}

func TestClassName(t *testing.T) {
	if ClassName(ClassCellPhone) != "cell phone" {
		t.Errorf("ClassName(67): got %q", ClassName(ClassCellPhone))
	}
	if ClassName(-1) != "unknown" || ClassName(1000) != "unknown" {
		t.Error("out of range ids should be unknown")
	}
}
