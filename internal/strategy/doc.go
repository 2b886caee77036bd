// Package strategy 描述缓存策略的种类以及 URL → 策略的分类表。
//
// 分类表在构造后不可变：规则按顺序匹配，第一个命中者胜出，没有打分。
// 未命中任何规则的请求回退为 network-first + dynamic 仓库。
package strategy
