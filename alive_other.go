//go:build !unix && !windows

package procgroup

func Alive(int) bool { return false }
