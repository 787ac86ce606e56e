// Package knot provides a memory arena for constructing object graphs that
// may contain cycles, where every object becomes fully immutable once
// construction finishes.
//
// Ordinary ownership makes cyclic structures hard to build safely: an object
// cannot reference another object that does not yet exist, yet cycles
// require exactly that. Knot decouples wiring from existence: objects are
// bump-allocated at stable addresses, reference assignments are queued while
// the graph is under construction, and the whole graph is sealed when the
// build session ends.
//
// # Quick Start
//
//	type Node struct {
//	    ID   int
//	    Next knot.Cell[Node]
//	}
//
//	arena := knot.New[Node]()
//	defer arena.Free()
//
//	pair := knot.Build(arena, func(b *knot.Builder[Node]) [2]knot.Ref[Node] {
//	    x := b.Alloc(Node{ID: 0})
//	    y := b.Alloc(Node{ID: 1})
//	    b.SetRef(&x.Value().Next, y) // forward reference
//	    b.SetRef(&y.Value().Next, x) // cycle
//	    return [2]knot.Ref[Node]{x.Freeze(), y.Freeze()}
//	})
//
//	fmt.Println(pair[0].Get().Next.Get().ID) // 1
//
// # Model
//
//   - Arena owns all storage; objects live until Arena.Free.
//   - Builder is the construction session: allocate, wire, freeze.
//   - Handle is the exclusive mutable view of one object before freezing.
//   - Cell is a single-assignment reference field inside an object: it is
//     bound exactly once and read many times. Double binds and reads of an
//     unbound cell are contract violations and panic.
//   - Ref is the frozen, read-only reference returned to the caller.
//
// Assignments made through Builder.SetRef are deferred and applied
// atomically per cell when the session commits, which is what permits
// forward references, back references and self-loops without ordering
// constraints. Within one session the queue may be populated from multiple
// goroutines; the commit itself is single-threaded.
//
// # Non-goals
//
// Knot is not a garbage-collected graph library: there is no deletion, no
// mutation after freeze and no storage reuse. It performs no cycle detection
// or topological validation: arbitrary graphs, including self-loops, are
// valid by construction.
package knot
