// Package runner выполняет job instances на машине runner'а.
//
// Runner — stateless компонент системы, который:
//   - Получает job.ready из очереди RabbitMQ
//   - Загружает instance из БД и проверяет его статус
//   - Выполняет шаги job через executor (рендеринг, guards, кеш)
//   - Записывает результат в БД
//   - Публикует job.completed для dispatcher'а
//
// Runner'ы масштабируются горизонтально: несколько экземпляров
// потребляют из одной очереди, prefetch ограничивает число
// параллельных instances на экземпляр.
//
// Проверка статуса перед выполнением реализует распределённый
// fail-fast: dispatcher помечает PENDING instances как SKIPPED в БД,
// и runner, получивший job.ready позже, их не выполняет.
package runner
