package devfs

type noteOp uint8

const (
	noteCreated noteOp = iota + 1
	noteRemoved
	noteMoved
	noteStat
)

type note struct {
	op     noteOp
	dir    uint64
	name   string
	toDir  uint64
	toName string
	id     uint64
	fields StatField
}

// notes collects notifications under the tree lock; flush delivers them
// once it is released.
type notes []note

func (n *notes) created(dir uint64, name string, id uint64) {
	*n = append(*n, note{op: noteCreated, dir: dir, name: name, id: id})
}

func (n *notes) removed(dir uint64, name string, id uint64) {
	*n = append(*n, note{op: noteRemoved, dir: dir, name: name, id: id})
}

func (n *notes) moved(dir uint64, from string, toDir uint64, to string, id uint64) {
	*n = append(*n, note{op: noteMoved, dir: dir, name: from, toDir: toDir, toName: to, id: id})
}

func (n *notes) stat(id uint64, fields StatField) {
	*n = append(*n, note{op: noteStat, id: id, fields: fields})
}

func (f *FS) flush(n notes) {
	if f.notifier == nil {
		return
	}
	for _, e := range n {
		switch e.op {
		case noteCreated:
			f.notifier.EntryCreated(e.dir, e.name, e.id)
		case noteRemoved:
			f.notifier.EntryRemoved(e.dir, e.name, e.id)
		case noteMoved:
			f.notifier.EntryMoved(e.dir, e.name, e.toDir, e.toName, e.id)
		case noteStat:
			f.notifier.StatChanged(e.id, e.fields)
		}
	}
}
