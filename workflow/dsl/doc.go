// Package dsl 提供 YAML 声明式工作流定义，
// 支持变量、${var} 插值与条件分支，
// 将定义文件解析为 workflow.Definition。
package dsl
