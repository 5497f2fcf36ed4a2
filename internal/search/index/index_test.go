package index

import "testing"

func TestUpsertReplacesPreviousVersion(t *testing.T) {
	x := New()
	x.Upsert(Document{PostID: "p1", Content: "golang gophers"})
	x.Upsert(Document{PostID: "p1", Content: "rust crabs"})

	if x.Len() != 1 {
		t.Fatalf("expected one document, got %d", x.Len())
	}
	if len(x.Postings("golang")) != 0 {
		t.Error("stale terms must be removed on upsert")
	}
	if pl := x.Postings("rust"); len(pl) != 1 || pl[0].DocID != "p1" {
		t.Errorf("unexpected postings %v", pl)
	}
	if s := x.Stats(); s.TotalDocs != 1 || s.AvgDocLength != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	x := New()
	x.Upsert(Document{PostID: "p1", Content: "hello world"})
	if !x.Delete("p1") {
		t.Error("first delete should report presence")
	}
	if x.Delete("p1") {
		t.Error("second delete should be a no-op")
	}
	if x.Len() != 0 || len(x.Postings("hello")) != 0 || x.Stats().AvgDocLength != 0 {
		t.Error("index not empty after delete")
	}
}

func TestTermFrequency(t *testing.T) {
	x := New()
	x.Upsert(Document{PostID: "p1", Content: "go go go gophers"})
	x.Upsert(Document{PostID: "p2", Content: "go"})
	pl := x.Postings("go")
	if len(pl) != 2 || pl[0].DocID != "p1" || pl[0].Frequency != 3 || pl[1].Frequency != 1 {
		t.Errorf("unexpected postings %+v", pl)
	}
	if _, n, ok := x.Doc("p1"); !ok || n != 4 {
		t.Errorf("doc length %d", n)
	}
}
