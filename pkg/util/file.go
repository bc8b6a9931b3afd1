package util

import (
	"os"
	"strings"
)

// PathExists 忽略路径不存在错误，可以由用户自行创建；其他错误进行报错
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ReadFields 读取整个文件并按空白切分
// cgroup 的控制文件大多是单行、空格分隔的 token 列表，例如 cgroup.controllers
func ReadFields(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

// ReadLines 按行读取文件，去掉空行
// 适用于 cgroup.procs、memory.stat 这类一行一条记录的控制文件
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
