// Copyright 2026 OBC Chat Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package config 提供 OBC Chat 的配置管理功能。
//
// 包含配置加载（默认值 → YAML 文件 → 环境变量）、校验、
// 以及基于文件监听的运行时热重载。
package config
