//go:build !linux

package sender

func threadID() int { return 0 }
