package main

import (
	"bytes"
	"testing"
)

// useBufferWriters 将 offline-hub 的 stdOut/stdErr 替换为内存缓冲，测试结束后恢复；
// 同时清空 OFFLINE_HUB_CONFIG，避免宿主环境影响配置路径。
func useBufferWriters(t *testing.T) {
	t.Helper()
	t.Setenv("OFFLINE_HUB_CONFIG", "")

	prevOut := stdOut
	prevErr := stdErr

	stdOut = &bytes.Buffer{}
	stdErr = &bytes.Buffer{}

	t.Cleanup(func() {
		stdOut = prevOut
		stdErr = prevErr
	})
}

// stdOutBuffer 返回 useBufferWriters 生效期间的 stdout 缓冲。
func stdOutBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf, ok := stdOut.(*bytes.Buffer)
	if !ok {
		t.Fatalf("stdout is not buffered; call useBufferWriters first")
	}
	return buf
}

// stdErrBuffer 返回 useBufferWriters 生效期间的 stderr 缓冲。
func stdErrBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf, ok := stdErr.(*bytes.Buffer)
	if !ok {
		t.Fatalf("stderr is not buffered; call useBufferWriters first")
	}
	return buf
}
