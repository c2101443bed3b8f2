package joy

//
// SelectNext is the round robin policy.  It scans the table starting right
// after current (from slot 0 when current is NoProcessId), wrapping, and
// picks the first Ready process.  A current process that is still Running
// is kept when nobody else is Ready.  NoProcessId means the system is idle.
//
// The previously running process goes back to Ready, unless its own
// syscall already moved it to Blocked or Terminated.  The selected process
// is marked Running.
//
func SelectNext(t *Table, current ProcessId) ProcessId {
	n := len(t.slots)
	if n == 0 {
		return NoProcessId
	}
	start := 0
	cur := t.slot(current)
	if cur != nil {
		start = int(current) + 1
	}
	next := NoProcessId
	for i := 0; i < n; i++ {
		p := &t.slots[(start+i)%n]
		if p.State == StateReady {
			next = p.Id
			break
		}
	}
	if next == NoProcessId {
		if cur != nil && cur.State == StateRunning {
			cur.selected++
			return current
		}
		return NoProcessId
	}
	if cur != nil && cur.State == StateRunning {
		cur.State = StateReady
	}
	p := &t.slots[next]
	p.State = StateRunning
	p.selected++
	return next
}
