// Package engine содержит ядро движка pipelines.
//
// Включает:
//   - matrix.go   — раскрытие матриц (декартово произведение, exclude/include)
//   - dag.go      — граф jobs по needs (топологическая сортировка)
//   - expr.go     — лексер/парсер/вычислитель выражений ${{ ... }}
//   - funcs.go    — встроенные функции (hashFiles, join, contains, ...)
//   - context.go  — контекст вычисления одного job instance
//   - validate.go — валидация Pipeline перед стартом
//
// Engine отвечает за понимание структуры pipeline и превращение
// деклараций в конкретные job instances; выполнение шагов — дело
// пакета executor.
package engine
