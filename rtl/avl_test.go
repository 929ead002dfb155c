package rtl

import (
	"math/rand"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func intCompare(a, b interface{}) int { return a.(int) - b.(int) }

func TestAVLInsertFindDelete(t *testing.T) {
	tr := NewAVLTree(intCompare)
	values := []int{50, 30, 70, 20, 40, 60, 80, 10, 90, 35}
	for _, v := range values {
		if !tr.Insert(v) {
			t.Fatalf("Insert(%d) reported duplicate", v)
		}
		if !tr.CheckInvariants() {
			t.Fatalf("AVL invariant broken after inserting %d", v)
		}
	}
	if tr.Len() != len(values) {
		t.Fatalf("Len() = %d, want %d", tr.Len(), len(values))
	}

	var got []int
	tr.InOrder(func(v interface{}) { got = append(got, v.(int)) })
	want := append([]int(nil), values...)
	sortInts(want)
	if diff := pretty.Compare(got, want); diff != "" {
		t.Fatalf("in-order traversal mismatch (-got +want):\n%s", diff)
	}

	for _, v := range values {
		if n := tr.Find(v); n == nil || n.Value.(int) != v {
			t.Fatalf("Find(%d) failed", v)
		}
	}

	for _, v := range values {
		if !tr.Delete(v) {
			t.Fatalf("Delete(%d) failed", v)
		}
		if !tr.CheckInvariants() {
			t.Fatalf("AVL invariant broken after deleting %d", v)
		}
	}
	if tr.Len() != 0 {
		t.Fatalf("Len() = %d after deleting all, want 0", tr.Len())
	}
}

func TestAVLRandomStress(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	tr := NewAVLTree(intCompare)
	present := map[int]bool{}

	for i := 0; i < 2000; i++ {
		v := r.Intn(500)
		if r.Intn(3) == 0 && present[v] {
			tr.Delete(v)
			delete(present, v)
		} else if !present[v] {
			tr.Insert(v)
			present[v] = true
		}
		if !tr.CheckInvariants() {
			t.Fatalf("invariant broken at step %d (value %d)", i, v)
		}
	}
	if tr.Len() != len(present) {
		t.Fatalf("Len() = %d, want %d", tr.Len(), len(present))
	}
}

func TestAVLFindPredecessorOrEqual(t *testing.T) {
	tr := NewAVLTree(intCompare)
	for _, v := range []int{10, 20, 30, 40} {
		tr.Insert(v)
	}
	cases := map[int]int{5: -1, 10: 10, 15: 10, 25: 20, 45: 40}
	for key, want := range cases {
		n := tr.FindPredecessorOrEqual(key)
		if want == -1 {
			if n != nil {
				t.Errorf("FindPredecessorOrEqual(%d) = %v, want nil", key, n.Value)
			}
			continue
		}
		if n == nil || n.Value.(int) != want {
			t.Errorf("FindPredecessorOrEqual(%d) = %v, want %d", key, n, want)
		}
	}
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
