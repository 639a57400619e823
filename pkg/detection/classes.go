package detection

import (
	"slices"
	"time"
)

// COCO class ids the proctoring engine cares about.
const (
	ClassPerson    = 0
	ClassTV        = 62
	ClassLaptop    = 63
	ClassRemote    = 65
	ClassKeyboard  = 66
	ClassCellPhone = 67
	ClassBook      = 73
)

// Tier ranks how serious a prohibited item is. Lower is stricter.
type Tier int

const (
	// TierPhone items are handled by the phone tracker.
	TierPhone Tier = 1
	// TierMaterial covers books and laptops.
	TierMaterial Tier = 2
	// TierPeripheral covers monitors, keyboards and remotes.
	TierPeripheral Tier = 3
)

// Item describes how one prohibited class is tracked.
type Item struct {
	Name string
	Tier Tier

	// Visibility is how long the item must stay in view before it violates.
	Visibility time.Duration

	// Grace is the correction window shown after the violation.
	Grace time.Duration
}

// Catalog is the allow-list of prohibited classes plus the phone classes.
type Catalog struct {
	Items  map[int]Item
	Phones []int
}

// DefaultCatalog returns the exam catalog for COCO-80 models.
func DefaultCatalog() Catalog {
	material := func(name string) Item {
		return Item{Name: name, Tier: TierMaterial, Visibility: time.Second, Grace: 2 * time.Second}
	}
	peripheral := func(name string) Item {
		return Item{Name: name, Tier: TierPeripheral, Visibility: 1500 * time.Millisecond, Grace: 3 * time.Second}
	}

	return Catalog{
		Items: map[int]Item{
			ClassLaptop:   material("Laptop"),
			ClassBook:     material("Book/Notes"),
			ClassTV:       peripheral("TV/Monitor"),
			ClassKeyboard: peripheral("Keyboard"),
			ClassRemote:   peripheral("Remote"),
		},
		Phones: []int{ClassCellPhone},
	}
}

// IsPhone reports whether the class id is routed to the phone tracker.
func (c Catalog) IsPhone(classID int) bool {
	return slices.Contains(c.Phones, classID)
}

// Lookup returns the item for a class id.
func (c Catalog) Lookup(classID int) (Item, bool) {
	item, ok := c.Items[classID]
	return item, ok
}

// ClassIDs returns every class id the catalog consumes, sorted.
func (c Catalog) ClassIDs() []int {
	ids := make([]int, 0, len(c.Items)+len(c.Phones))
	for id := range c.Items {
		ids = append(ids, id)
	}
	for _, id := range c.Phones {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Split partitions detections into phone detections and catalog items.
// Anything else is dropped.
func (c Catalog) Split(objects []Object) (phones, items []Object) {
	for _, o := range objects {
		switch {
		case c.IsPhone(o.ClassID):
			phones = append(phones, o)
		case c.Items[o.ClassID].Name != "":
			items = append(items, o)
		}
	}
	return phones, items
}

// ClassName returns the COCO name for a class id.
func ClassName(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return "unknown"
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
