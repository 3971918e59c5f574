package tracker

// ItemReference is a lightweight query hit: enough to drive batching.
type ItemReference struct {
	ID    int    `json:"id"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	State string `json:"state,omitempty"`
}

// Relation is a labeled edge from a work item to another resource.
// Rel encodes direction and meaning, e.g. "System.LinkTypes.Hierarchy-Reverse"
// points up to the containing item.
type Relation struct {
	Rel        string                 `json:"rel"`
	URL        string                 `json:"url,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// WorkItem is a fully hydrated record including its relations.
type WorkItem struct {
	ID           int        `json:"id"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	WorkItemType string     `json:"work_item_type,omitempty"`
	Relations    []Relation `json:"relations"`
	WebURL       string     `json:"web_url,omitempty"` // empty when the tracker sent no html link
}

// Well-known field reference names
const (
	FieldTitle        = "System.Title"
	FieldState        = "System.State"
	FieldWorkItemType = "System.WorkItemType"
)

// MaxIDsPerRequest is the tracker's limit for the batch work item endpoint
const MaxIDsPerRequest = 200

// workItemWire is the JSON shape returned by the work items endpoint
type workItemWire struct {
	ID        int                    `json:"id"`
	Fields    map[string]interface{} `json:"fields"`
	Relations []Relation             `json:"relations"`
	Links     struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"_links"`
}

type workItemsResponse struct {
	Count int             `json:"count"`
	Value []*workItemWire `json:"value"`
}

func (w *workItemWire) toWorkItem() WorkItem {
	return WorkItem{
		ID:           w.ID,
		Title:        stringField(w.Fields, FieldTitle),
		State:        stringField(w.Fields, FieldState),
		WorkItemType: stringField(w.Fields, FieldWorkItemType),
		Relations:    w.Relations,
		WebURL:       w.Links.HTML.Href,
	}
}

func stringField(fields map[string]interface{}, name string) string {
	if s, ok := fields[name].(string); ok {
		return s
	}
	return ""
}
